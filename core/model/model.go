// Package model defines the engine-level capabilities shared by every
// decision forest implementation, the registry used to load them by name,
// and the on-disk layout of a saved model.
package model

import (
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/goforest/dataset"
)

// Model は学習済みエンジンモデルの最小限の能力
//
// 実装は学習後に不変であり、並行して読み取り可能でなければならない。
type Model interface {
	// Name はレジストリに登録された名前 (例: "GRADIENT_BOOSTED_TREES")
	Name() string
	Task() Task
	// Label はラベル列の名前
	Label() string
	DataSpec() *dataset.DataSpec
	// InputFeatures はモデルが使用する入力特徴量の列名
	InputFeatures() []string
	// Predict は ds の各行の予測を返す。
	// 回帰と二値分類は n×1、多クラス分類は n×クラス数。
	Predict(ds *dataset.VerticalDataset) (*mat.Dense, error)
	// Describe は人が読むためのモデル概要
	Describe() string
	Header() Header
	// Save は dir に prefix 付きのファイル群としてモデルを書き出す
	Save(dir, prefix string) error
}

// Header はすべての保存済みモデルに共通するメタデータ
type Header struct {
	Name          string    `json:"name"`
	Task          Task      `json:"task"`
	Label         string    `json:"label"`
	ModelID       string    `json:"model_id"`
	InputFeatures []string  `json:"input_features"`
	CreatedAt     time.Time `json:"created_at"`
	Version       string    `json:"version"`
}

// FormatVersion は保存形式のバージョン
const FormatVersion = "1"
