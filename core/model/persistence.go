package model

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/YuminosukeSato/goforest/dataset"
	"github.com/YuminosukeSato/goforest/pkg/errors"
)

// 保存済みモデルを構成するファイル名 (prefix を先頭に付けて使う)
const (
	HeaderFile   = "header.json"
	DataSpecFile = "data_spec.json"
	ForestFile   = "forest.json"
	DoneFile     = "done"
)

// WriteJSON は v を dir/prefix+name に整形済み JSON として書き出す
func WriteJSON(dir, prefix, name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "failed to encode %s", name)
	}
	path := filepath.Join(dir, prefix+name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	return nil
}

// ReadJSON は dir/prefix+name を v に読み込む。
// ファイルが存在しない場合は ValidationError (引数 prefix の誤り) を返す。
func ReadJSON(dir, prefix, name string, v interface{}) error {
	path := filepath.Join(dir, prefix+name)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.NewValidationError("prefix",
				"no model file "+prefix+name+" in "+dir+"; check the file prefix", prefix)
		}
		return errors.Wrapf(err, "failed to read %s", path)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrapf(err, "failed to decode %s", path)
	}
	return nil
}

// SaveCommon はヘッダ・データスペックを書き出す。
// エンジン固有のファイルを書いた後に MarkDone を呼ぶこと。
func SaveCommon(dir, prefix string, header Header, spec *dataset.DataSpec) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create %s", dir)
	}
	if header.Version == "" {
		header.Version = FormatVersion
	}
	if err := WriteJSON(dir, prefix, HeaderFile, header); err != nil {
		return err
	}
	return WriteJSON(dir, prefix, DataSpecFile, spec)
}

// MarkDone は保存完了を示す空のマーカーファイルを作成する
func MarkDone(dir, prefix string) error {
	path := filepath.Join(dir, prefix+DoneFile)
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	return nil
}

// LoadHeader は dir/prefix+header.json を読み込む
func LoadHeader(dir, prefix string) (Header, error) {
	var header Header
	if err := ReadJSON(dir, prefix, HeaderFile, &header); err != nil {
		return Header{}, err
	}
	if header.Name == "" {
		return Header{}, errors.NewModelError("LoadHeader", "header has no model name", nil)
	}
	return header, nil
}

// LoadDataSpec は dir/prefix+data_spec.json を読み込む
func LoadDataSpec(dir, prefix string) (*dataset.DataSpec, error) {
	spec := &dataset.DataSpec{}
	if err := ReadJSON(dir, prefix, DataSpecFile, spec); err != nil {
		return nil, err
	}
	return spec, nil
}

// DetectPrefix は dir 内の done マーカーから prefix を推定する。
// マーカーがちょうど1つの場合のみ成功する。
func DetectPrefix(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", errors.Wrapf(err, "failed to list model directory %s", dir)
	}

	var prefixes []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), DoneFile) {
			continue
		}
		prefixes = append(prefixes, strings.TrimSuffix(e.Name(), DoneFile))
	}

	switch len(prefixes) {
	case 0:
		return "", errors.NewValidationError("dir", "no model found (missing done marker)", dir)
	case 1:
		return prefixes[0], nil
	default:
		return "", errors.NewValidationError("prefix",
			"several models found in the directory; specify the file prefix explicitly", prefixes)
	}
}
