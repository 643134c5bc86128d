package dbm

import (
	"os"

	"github.com/estraier/tkrzw-go"
	"github.com/zond/scriptai"

	goccy "github.com/goccy/go-json"
)

// Hash is a tkrzw hash file. tkrzw synchronizes access itself.
type Hash struct {
	dbm *tkrzw.DBM
}

func (h *Hash) Get(k string) ([]byte, error) {
	b, stat := h.dbm.Get(k)
	if stat.GetCode() == tkrzw.StatusNotFoundError {
		return nil, scriptai.WithStack(os.ErrNotExist)
	} else if !stat.IsOK() {
		return nil, scriptai.WithStack(stat)
	}
	return b, nil
}

func (h *Hash) Set(k string, v []byte, overwrite bool) error {
	if stat := h.dbm.Set(k, v, overwrite); !stat.IsOK() {
		return scriptai.WithStack(stat)
	}
	return nil
}

// Del removes k. Removing a missing key is os.ErrNotExist.
func (h *Hash) Del(k string) error {
	if stat := h.dbm.Remove(k); stat.GetCode() == tkrzw.StatusNotFoundError {
		return scriptai.WithStack(os.ErrNotExist)
	} else if !stat.IsOK() {
		return scriptai.WithStack(stat)
	}
	return nil
}

func (h *Hash) Count() (int64, error) {
	n, stat := h.dbm.Count()
	if !stat.IsOK() {
		return 0, scriptai.WithStack(stat)
	}
	return n, nil
}

// Each calls f with every record, in no particular order, until f returns
// false or an error.
func (h *Hash) Each(f func(k string, v []byte) (bool, error)) error {
	iter := h.dbm.MakeIterator()
	defer iter.Destruct()
	stat := iter.First()
	for ; stat.IsOK(); stat = iter.Next() {
		k, v, getStat := iter.Get()
		if getStat.GetCode() == tkrzw.StatusNotFoundError {
			break
		} else if !getStat.IsOK() {
			return scriptai.WithStack(getStat)
		}
		cont, err := f(string(k), v)
		if err != nil {
			return scriptai.WithStack(err)
		}
		if !cont {
			break
		}
	}
	if !stat.IsOK() && stat.GetCode() != tkrzw.StatusNotFoundError {
		return scriptai.WithStack(stat)
	}
	return nil
}

func (h *Hash) Close() error {
	if stat := h.dbm.Close(); !stat.IsOK() {
		return scriptai.WithStack(stat)
	}
	return nil
}

// TypeHash stores values of T as JSON.
type TypeHash[T any] struct {
	*Hash
}

func (h *TypeHash[T]) Get(k string) (*T, error) {
	b, err := h.Hash.Get(k)
	if err != nil {
		return nil, err
	}
	res := new(T)
	if err := goccy.Unmarshal(b, res); err != nil {
		return nil, scriptai.WithStack(err)
	}
	return res, nil
}

func (h *TypeHash[T]) Set(k string, v *T, overwrite bool) error {
	b, err := goccy.Marshal(v)
	if err != nil {
		return scriptai.WithStack(err)
	}
	return h.Hash.Set(k, b, overwrite)
}

func (h *TypeHash[T]) Each(f func(k string, v *T) (bool, error)) error {
	return h.Hash.Each(func(k string, b []byte) (bool, error) {
		v := new(T)
		if err := goccy.Unmarshal(b, v); err != nil {
			return false, scriptai.WithStack(err)
		}
		return f(k, v)
	})
}

func OpenHash(path string) (*Hash, error) {
	dbm := tkrzw.NewDBM()
	stat := dbm.Open(path, true, map[string]string{
		"update_mode":      "UPDATE_APPENDING",
		"record_comp_mode": "RECORD_COMP_NONE",
		"restore_mode":     "RESTORE_SYNC|RESTORE_NO_SHORTCUTS|RESTORE_WITH_HARDSYNC",
	})
	if !stat.IsOK() {
		return nil, scriptai.WithStack(stat)
	}
	return &Hash{dbm: dbm}, nil
}

func OpenTypeHash[T any](path string) (*TypeHash[T], error) {
	h, err := OpenHash(path)
	if err != nil {
		return nil, scriptai.WithStack(err)
	}
	return &TypeHash[T]{h}, nil
}
