package db

import (
	"fmt"
	"testing"

	"github.com/vivek5200/Temp-Chat/internal/models"
)

func TestConnect_UnsupportedDriver(t *testing.T) {
	if _, err := Connect("mysql", "whatever"); err == nil {
		t.Error("Connect() should reject unknown drivers")
	}
}

func TestConnect_SQLiteMigrate(t *testing.T) {
	gdb, err := Connect("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	if err != nil {
		t.Skipf("sqlite not available: %v", err)
	}
	if err := Migrate(gdb); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	for _, m := range []any{&models.Account{}, &models.ActionToken{}, &models.RefreshToken{}} {
		if !gdb.Migrator().HasTable(m) {
			t.Errorf("table for %T not created", m)
		}
	}
}
