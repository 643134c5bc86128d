package loader

import (
	"context"
	"io"
	"time"

	"github.com/zond/scriptai"
	"github.com/zond/scriptai/storage"

	goccy "github.com/goccy/go-json"
)

// Dump is everything in a storage, as written by Backup.
type Dump struct {
	Sources  map[string]string
	Bindings []storage.Binding
}

func Backup(ctx context.Context, store *storage.Storage, w io.Writer) error {
	d := &Dump{
		Sources:  map[string]string{},
		Bindings: []storage.Binding{},
	}
	sources, err := store.Sources(ctx)
	if err != nil {
		return scriptai.WithStack(err)
	}
	for _, entry := range sources {
		src, err := store.GetSource(ctx, entry.Path)
		if err != nil {
			return scriptai.WithStack(err)
		}
		d.Sources[src.Path] = string(src.Content)
	}
	if d.Bindings, err = store.Bindings(ctx); err != nil {
		return scriptai.WithStack(err)
	}
	enc := goccy.NewEncoder(w)
	enc.SetIndent("", "  ")
	return scriptai.WithStack(enc.Encode(d))
}

// Restore loads a Backup into store. Sources come first, so the bindings
// always find them.
func Restore(ctx context.Context, store *storage.Storage, r io.Reader) error {
	d := &Dump{}
	if err := goccy.NewDecoder(r).Decode(d); err != nil {
		return scriptai.WithStack(err)
	}
	now := time.Now()
	for path, src := range d.Sources {
		if err := store.PutSource(ctx, path, []byte(src), now); err != nil {
			return scriptai.WithStack(err)
		}
	}
	for _, b := range d.Bindings {
		if err := store.Bind(ctx, b.Kind, b.Key, b.Path); err != nil {
			return scriptai.WithStack(err)
		}
	}
	return nil
}
