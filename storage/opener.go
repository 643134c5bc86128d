package storage

import (
	"fmt"
	"path/filepath"

	"github.com/zond/scriptai"
	"github.com/zond/scriptai/storage/dbm"
)

// opener opens hash files in Dir until the first failure, which it keeps in
// Err.
type opener struct {
	Dir   string
	Err   error
	files []interface{ Close() error }
}

func openTypeHash[T any](o *opener, name string) *dbm.TypeHash[T] {
	if o.Err != nil {
		return nil
	}
	h, err := dbm.OpenTypeHash[T](filepath.Join(o.Dir, fmt.Sprintf("%s.tkh", name)))
	if err != nil {
		o.Err = scriptai.WithStack(err)
		return nil
	}
	o.files = append(o.files, h)
	return h
}

// closeAll closes everything opened so far, for when a later open failed.
func (o *opener) closeAll() {
	for _, f := range o.files {
		f.Close()
	}
}
