package catalog

import (
	"context"
	"testing"

	"github.com/angelmondragon/supermarket-backend/pkg/db/models"
	"github.com/angelmondragon/supermarket-backend/pkg/pagination"
)

func mustList(t *testing.T, repo *Repository, params ListParams) []models.Product {
	t.Helper()
	rows, err := repo.List(context.Background(), params)
	if err != nil {
		t.Fatalf("list products: %v", err)
	}
	return rows
}

func paramsWithLimit(limit int) pagination.Params {
	return pagination.Params{Limit: limit}
}

func paramsWithCursor(cursor string, limit int) pagination.Params {
	return pagination.Params{Cursor: cursor, Limit: limit}
}
