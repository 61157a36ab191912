package model

import (
	"sort"
	"sync"

	"github.com/YuminosukeSato/goforest/pkg/errors"
)

// Loader はディレクトリからエンジンモデルを読み込む関数
// header は既に読み込まれたヘッダ。
type Loader func(dir, prefix string, header Header) (Model, error)

var (
	registryMu sync.RWMutex
	loaders    = make(map[string]Loader)
)

// Register はモデル名に Loader を登録する。
// エンジンパッケージの init から呼ばれる。同じ名前の二重登録は panic する。
func Register(name string, loader Loader) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if loader == nil {
		panic("model: Register loader is nil for " + name)
	}
	if _, dup := loaders[name]; dup {
		panic("model: Register called twice for " + name)
	}
	loaders[name] = loader
}

// Lookup は登録済みの Loader を返す
func Lookup(name string) (Loader, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	l, ok := loaders[name]
	return l, ok
}

// RegisteredNames は登録済みのモデル名をソートして返す
func RegisteredNames() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(loaders))
	for name := range loaders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Load はヘッダを読み、登録名に応じた Loader にディスパッチする。
// prefix が空の場合は done マーカーから自動検出する。
func Load(dir, prefix string) (Model, error) {
	if prefix == "" {
		detected, err := DetectPrefix(dir)
		if err != nil {
			return nil, err
		}
		prefix = detected
	}

	header, err := LoadHeader(dir, prefix)
	if err != nil {
		return nil, err
	}

	loader, ok := Lookup(header.Name)
	if !ok {
		return nil, errors.Wrapf(errors.ErrUnknownModel,
			"model %q is not registered (registered: %v); import its engine package", header.Name, RegisteredNames())
	}
	return loader(dir, prefix, header)
}
