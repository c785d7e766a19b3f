package push

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/HasheemYodhin/ys/internal/logger"
)

// VAPIDKeys: пара ключей сервера приложений для Web Push.
type VAPIDKeys struct {
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
}

func (k *VAPIDKeys) complete() bool {
	return k != nil && k.PublicKey != "" && k.PrivateKey != ""
}

const defaultVAPIDKeysPath = "config/vapid.json"

// ResolveVAPIDKeys: пара из окружения, если задана целиком; иначе файл path.
func ResolveVAPIDKeys(public, private, path string) (*VAPIDKeys, error) {
	env := &VAPIDKeys{PublicKey: public, PrivateKey: private}
	switch {
	case env.complete():
		return env, nil
	case public != "" || private != "":
		return nil, errors.New("push: VAPID_PUBLIC_KEY и VAPID_PRIVATE_KEY задаются только вместе")
	}
	return EnsureVAPIDKeys(path)
}

// EnsureVAPIDKeys читает ключи из path (по умолчанию config/vapid.json). Если файла нет,
// создаёт новую пару. Ошибка записи не фатальна: ключи живут до рестарта.
func EnsureVAPIDKeys(path string) (*VAPIDKeys, error) {
	if path == "" {
		path = defaultVAPIDKeysPath
	}
	if keys, err := readKeys(path); err == nil && keys.complete() {
		return keys, nil
	}

	private, public, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		return nil, fmt.Errorf("push: generate VAPID keys: %w", err)
	}
	keys := &VAPIDKeys{PublicKey: public, PrivateKey: private}
	if err := writeKeys(path, keys); err != nil {
		logger.Errorf("push: ключи VAPID не сохранены в %s: %v", path, err)
	} else {
		logger.Infof("push: новые ключи VAPID записаны в %s", path)
	}
	return keys, nil
}

func readKeys(path string) (*VAPIDKeys, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	keys := &VAPIDKeys{}
	return keys, json.Unmarshal(data, keys)
}

func writeKeys(path string, keys *VAPIDKeys) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(keys, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
