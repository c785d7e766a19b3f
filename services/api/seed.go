package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/HasheemYodhin/ys/internal/logger"
	"github.com/HasheemYodhin/ys/internal/model"
	"github.com/HasheemYodhin/ys/internal/repository"
)

// seedFile: пользователи для локального запуска (каталог пользователей ведёт внешний сервис).
//
//	users:
//	  - email: anna@yshr.com
//	    full_name: Anna
//	    role: HR Manager
type seedFile struct {
	Users []struct {
		ID       string `yaml:"id"`
		Email    string `yaml:"email"`
		FullName string `yaml:"full_name"`
		Role     string `yaml:"role"`
	} `yaml:"users"`
}

// seedUsers создаёт отсутствующих пользователей; существующие (по e-mail) не трогает.
func seedUsers(ctx context.Context, users repository.Users, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	created := 0
	for _, su := range f.Users {
		email := strings.ToLower(strings.TrimSpace(su.Email))
		if email == "" {
			continue
		}
		if _, err := users.GetByEmail(ctx, email); err == nil {
			continue
		} else if !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		id := su.ID
		if id == "" {
			id = uuid.New().String()
		}
		now := time.Now().UTC()
		u := &model.User{
			ID:            id,
			Email:         email,
			FullName:      su.FullName,
			Role:          su.Role,
			CurrentStatus: model.StatusOffline,
			LastSeen:      now,
			CreatedAt:     now,
		}
		if err := users.Create(ctx, u); err != nil {
			return err
		}
		created++
	}
	logger.Infof("seed: создано пользователей: %d", created)
	return nil
}
