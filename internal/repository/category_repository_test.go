package repository

import (
	"context"
	"errors"
	"testing"

	"oldruby-market/internal/domain"

	"github.com/google/uuid"
)

func TestCategoryRepository(t *testing.T) {
	resetTables(t)
	repo := NewCategoryRepository(testDB)
	ctx := context.Background()

	empty, err := repo.List(ctx)
	if err != nil || empty == nil || len(empty) != 0 {
		t.Fatalf("empty list = %#v %v", empty, err)
	}

	for _, name := range []string{"Tables", "Chairs"} {
		if err := repo.Create(ctx, &domain.Category{Name: name}); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
	}

	err = repo.Create(ctx, &domain.Category{Name: "Chairs"})
	if !errors.Is(err, domain.ErrConflict) {
		t.Errorf("duplicate name: %v", err)
	}

	list, err := repo.List(ctx)
	if err != nil || len(list) != 2 || list[0].Name != "Chairs" {
		t.Fatalf("list = %v %v", list, err)
	}

	got, err := repo.FindByID(ctx, list[1].ID)
	if err != nil || got.Name != "Tables" {
		t.Errorf("find = %+v %v", got, err)
	}

	if _, err := repo.FindByID(ctx, uuid.New()); !errors.Is(err, ErrCategoryNotFound) {
		t.Errorf("missing category: %v", err)
	}
}
