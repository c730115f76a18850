package tokenstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"filippo.io/age"
)

// FileKV — KV в одном файле, зашифрованном age (X25519).
// Ключ идентичности хранится отдельно и создаётся при первом запуске.
// Каждая запись переписывает файл целиком через временный файл и rename.
type FileKV struct {
	mu       sync.Mutex
	path     string
	identity *age.X25519Identity
}

// OpenFileKV открывает хранилище path, загружая ключ из keyPath
// или создавая новый с правами 0600.
func OpenFileKV(path, keyPath string) (*FileKV, error) {
	const op = "tokenstore.file.OpenFileKV"

	identity, err := loadOrCreateIdentity(keyPath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	kv := &FileKV{path: path, identity: identity}

	// Битый или чужой файл обнаруживается сразу, а не на первом Get.
	if _, err := kv.load(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return kv, nil
}

func loadOrCreateIdentity(keyPath string) (*age.X25519Identity, error) {
	raw, err := os.ReadFile(keyPath)
	switch {
	case err == nil:
		identity, err := age.ParseX25519Identity(strings.TrimSpace(string(raw)))
		if err != nil {
			return nil, fmt.Errorf("parse identity: %w", err)
		}
		return identity, nil

	case errors.Is(err, fs.ErrNotExist):
		identity, err := age.GenerateX25519Identity()
		if err != nil {
			return nil, fmt.Errorf("generate identity: %w", err)
		}
		if err := writeAtomic(keyPath, []byte(identity.String()+"\n")); err != nil {
			return nil, fmt.Errorf("write identity: %w", err)
		}
		return identity, nil

	default:
		return nil, fmt.Errorf("read identity: %w", err)
	}
}

func (f *FileKV) Get(ctx context.Context, key string) (string, error) {
	const op = "tokenstore.file.Get"

	if err := ctx.Err(); err != nil {
		return "", err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := f.load()
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	v, ok := data[key]
	if !ok {
		return "", ErrNotFound
	}

	return v, nil
}

func (f *FileKV) Set(ctx context.Context, key, value string) error {
	const op = "tokenstore.file.Set"

	return f.update(ctx, op, func(data map[string]string) {
		data[key] = value
	})
}

func (f *FileKV) Delete(ctx context.Context, keys ...string) error {
	const op = "tokenstore.file.Delete"

	return f.update(ctx, op, func(data map[string]string) {
		for _, k := range keys {
			delete(data, k)
		}
	})
}

func (f *FileKV) update(ctx context.Context, op string, fn func(map[string]string)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := f.load()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	fn(data)

	if err := f.store(data); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// load расшифровывает файл; отсутствие файла — пустое хранилище.
func (f *FileKV) load() (map[string]string, error) {
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return make(map[string]string), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}

	r, err := age.Decrypt(bytes.NewReader(raw), f.identity)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}

	plain, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}

	data := make(map[string]string)
	if err := json.Unmarshal(plain, &data); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	return data, nil
}

func (f *FileKV) store(data map[string]string) error {
	plain, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, f.identity.Recipient())
	if err != nil {
		return fmt.Errorf("encrypt: %w", err)
	}
	if _, err := w.Write(plain); err != nil {
		return fmt.Errorf("encrypt: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("encrypt: %w", err)
	}

	return writeAtomic(f.path, buf.Bytes())
}

// writeAtomic пишет файл с правами 0600 через временный файл в той же директории.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), path)
}
