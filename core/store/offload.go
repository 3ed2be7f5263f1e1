package store

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/relabs-tech/restful/core/fields"
	"github.com/relabs-tech/restful/core/kss"
	"github.com/relabs-tech/restful/core/logger"
)

const blobReferencePrefix = "kss:"

// WithBlobs makes the engine keep the contents of binary fields in a kss driver.
// The record only holds a reference to the key.
func (e *Engine) WithBlobs(driver kss.Driver) *Engine {
	e.blobs = driver
	return e
}

func blobKey(k *fields.Kind, id int64, field string) string {
	return fmt.Sprintf("%s/%d/%s", k.Name, id, field)
}

// extractBlobs removes the binary contents from a new record
func (e *Engine) extractBlobs(k *fields.Kind, record Values) map[string][]byte {
	if e.blobs == nil {
		return nil
	}
	blobs := map[string][]byte{}
	for _, d := range k.Fields {
		if d.Type != fields.TypeBinary {
			continue
		}
		s, ok := record[d.Name].(string)
		if !ok {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			continue
		}
		blobs[d.Name] = data
		delete(record, d.Name)
	}
	return blobs
}

func (u *unit) storeBlobs(ctx context.Context, k *fields.Kind, id int64, record Values, blobs map[string][]byte) error {
	for field, data := range blobs {
		key := blobKey(k, id, field)
		if err := u.blobs.Put(ctx, key, data); err != nil {
			return err
		}
		u.stored = append(u.stored, key)
		record[field] = blobReferencePrefix + key
	}
	return nil
}

// updateBlobs offloads the binary fields an update writes
func (u *unit) updateBlobs(ctx context.Context, k *fields.Kind, id int64, record, values Values) error {
	if u.blobs == nil {
		return nil
	}
	for _, d := range k.Fields {
		if _, ok := values[d.Name]; !ok || d.Type != fields.TypeBinary {
			continue
		}
		key := blobKey(k, id, d.Name)
		s, ok := record[d.Name].(string)
		if !ok {
			u.obsolete = append(u.obsolete, key)
			continue
		}
		data, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			continue
		}
		if err := u.blobs.Put(ctx, key, data); err != nil {
			return err
		}
		record[d.Name] = blobReferencePrefix + key
	}
	return nil
}

// loadBlobs replaces references with the base64 encoded contents
func (e *Engine) loadBlobs(ctx context.Context, k *fields.Kind, record Values) error {
	for _, d := range k.Fields {
		if d.Type != fields.TypeBinary {
			continue
		}
		s, ok := record[d.Name].(string)
		if !ok || !strings.HasPrefix(s, blobReferencePrefix) {
			continue
		}
		if e.blobs == nil {
			return fmt.Errorf("%s.%s references blob storage, but none is configured", k.Name, d.Name)
		}
		data, err := e.blobs.Get(ctx, strings.TrimPrefix(s, blobReferencePrefix))
		if errors.Is(err, kss.ErrNotFound) {
			logger.FromContext(ctx).Warnf("missing blob %s", s)
			delete(record, d.Name)
			continue
		}
		if err != nil {
			return err
		}
		record[d.Name] = base64.StdEncoding.EncodeToString(data)
	}
	return nil
}

// deleteBlobs marks the blobs of a deleted record. They are removed once the
// deletion is committed.
func (u *unit) deleteBlobs(k *fields.Kind, record Values) {
	if u.blobs == nil {
		return
	}
	for _, d := range k.Fields {
		s, ok := record[d.Name].(string)
		if d.Type != fields.TypeBinary || !ok || !strings.HasPrefix(s, blobReferencePrefix) {
			continue
		}
		u.obsolete = append(u.obsolete, strings.TrimPrefix(s, blobReferencePrefix))
	}
}

// discardBlobs deletes the blobs stored by a unit that was rolled back
func (u *unit) discardBlobs(ctx context.Context) {
	u.dropBlobs(ctx, u.stored)
}

// dropObsoleteBlobs deletes the blobs of records a committed unit deleted or cleared
func (u *unit) dropObsoleteBlobs(ctx context.Context) {
	u.dropBlobs(ctx, u.obsolete)
}

func (u *unit) dropBlobs(ctx context.Context, keys []string) {
	if u.blobs == nil {
		return
	}
	for _, key := range keys {
		if err := u.blobs.Delete(ctx, key); err != nil && !errors.Is(err, kss.ErrNotFound) {
			logger.FromContext(ctx).WithError(err).Warnln("cannot delete blob", key)
		}
	}
}
