package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"presale_sniper/internal/config"
	"presale_sniper/internal/model"
)

func TestOpenSQLite(t *testing.T) {
	s, err := Open(context.Background(), config.StorageConfig{
		Driver:     config.DriverSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "nested", "x.db"),
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if list, err := s.ListTasks(context.Background()); err != nil || len(list) != 0 {
		t.Errorf("ListTasks = %v, %v", list, err)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.StorageConfig{Driver: "mongo"})
	if !errors.Is(err, model.ErrConfiguration) {
		t.Fatalf("err = %v, want ErrConfiguration", err)
	}
}
