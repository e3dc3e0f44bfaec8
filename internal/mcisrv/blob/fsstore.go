package blob

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang/snappy"
	"github.com/mcistack/mci/internal/common/apperrors"
	"github.com/mcistack/mci/internal/mcisrv/digest"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// FSStore stores objects on the local filesystem.
//
// Layout (git-style sharding under each namespace):
//
//	root/
//	  definitions/sha256/ab/12cd...
//	  configurations/sha256/...
//	  secrets/sha256/...
//
// Objects are optionally snappy-compressed on disk. Writes go through a
// temp file and rename so a crash never leaves a partial object under a
// final key.
type FSStore struct {
	root     string
	compress bool
}

func NewFSStore(root string, compress bool) (*FSStore, apperrors.Error) {
	for _, ns := range Namespaces {
		if err := os.MkdirAll(filepath.Join(root, ns), 0o755); err != nil {
			return nil, ErrStore.New("failed to create store root").Err(errors.Wrap(err, ns))
		}
	}
	return &FSStore{root: root, compress: compress}, nil
}

// Put writes data under key. The key embeds the content digest, so Put
// verifies data against the key before touching disk; an existing object
// under a matching key makes the call a no-op.
func (s *FSStore) Put(ctx context.Context, key string, data []byte) apperrors.Error {
	_, dgst, aerr := splitKey(key)
	if aerr != nil {
		return aerr
	}
	if err := digest.Verify(data, dgst); err != nil {
		return ErrKeyConflict.New("content does not hash to key digest: " + key)
	}

	path, aerr := s.objectPath(key)
	if aerr != nil {
		return aerr
	}
	if _, err := os.Stat(path); err == nil {
		log.Ctx(ctx).Debug().Str("key", key).Msg("object already stored")
		return nil
	}

	stored := data
	if s.compress {
		stored = snappy.Encode(nil, data)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ErrStore.New("failed to create object directory").Err(err)
	}
	tmp, err := os.CreateTemp(dir, ".put-*")
	if err != nil {
		return ErrStore.New("failed to create temp object").Err(err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(stored); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return ErrStore.New("failed to write object").Err(errors.Wrap(err, key))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return ErrStore.New("failed to close object").Err(err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return ErrStore.New("failed to finalize object").Err(errors.Wrap(err, key))
	}
	return nil
}

func (s *FSStore) Get(ctx context.Context, key string) ([]byte, apperrors.Error) {
	path, aerr := s.objectPath(key)
	if aerr != nil {
		return nil, aerr
	}
	stored, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound.New("object not found: " + key)
		}
		return nil, ErrStore.New("failed to read object").Err(errors.Wrap(err, key))
	}
	if s.compress {
		data, err := snappy.Decode(nil, stored)
		if err != nil {
			return nil, ErrStore.New("failed to decompress object").Err(errors.Wrap(err, key))
		}
		return data, nil
	}
	return stored, nil
}

// Delete removes an object. Deleting a missing key is not an error: the
// garbage collector sweep is idempotent.
func (s *FSStore) Delete(ctx context.Context, key string) apperrors.Error {
	path, aerr := s.objectPath(key)
	if aerr != nil {
		return aerr
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return ErrStore.New("failed to delete object").Err(errors.Wrap(err, key))
	}
	return nil
}

// List walks a namespace and returns the keys and modification times of
// every stored object.
func (s *FSStore) List(ctx context.Context, namespace string) ([]ObjectInfo, apperrors.Error) {
	nsRoot := filepath.Join(s.root, namespace, digest.Algorithm)
	var infos []ObjectInfo
	err := filepath.Walk(nsRoot, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if fi.IsDir() || strings.HasPrefix(fi.Name(), ".put-") {
			return nil
		}
		rel, err := filepath.Rel(nsRoot, path)
		if err != nil {
			return err
		}
		// rel is "ab/12cd..."; rejoin into the hex hash
		hex := strings.ReplaceAll(rel, string(filepath.Separator), "")
		infos = append(infos, ObjectInfo{
			Key:     KeyForDigest(namespace, digest.Algorithm+":"+hex),
			ModTime: fi.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, ErrStore.New("failed to list namespace").Err(errors.Wrap(err, namespace))
	}
	return infos, nil
}

// objectPath maps "ns/sha256:ab12cd..." to root/ns/sha256/ab/12cd...
func (s *FSStore) objectPath(key string) (string, apperrors.Error) {
	ns, dgst, err := splitKey(key)
	if err != nil {
		return "", err
	}
	hex := strings.TrimPrefix(dgst, digest.Algorithm+":")
	return filepath.Join(s.root, ns, digest.Algorithm, hex[:2], hex[2:]), nil
}

func splitKey(key string) (namespace, dgst string, err apperrors.Error) {
	ns, rest, ok := strings.Cut(key, "/")
	if !ok {
		return "", "", ErrInvalidKey.New("missing namespace: " + key)
	}
	valid := false
	for _, n := range Namespaces {
		if ns == n {
			valid = true
			break
		}
	}
	if !valid {
		return "", "", ErrInvalidKey.New("unknown namespace: " + ns)
	}
	if derr := digest.Validate(rest); derr != nil {
		return "", "", ErrInvalidKey.New("malformed key digest: " + key)
	}
	return ns, rest, nil
}
