package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/catalog-engine/internal/harvest"
)

func TestReadURLList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "urls.tsv")
	content := "# zooplus dry food\n" +
		"https://shop.example/p/1\tRoyal Canin\tMaxi Puppy\tdry\tpuppy\n" +
		"\n" +
		"https://shop.example/p/2\n" +
		"https://shop.example/p/1\tDuplicate\n" +
		"  https://shop.example/p/3\tAcana  \n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	items, err := readURLList(path)
	require.NoError(t, err)
	require.Len(t, items, 3)

	assert.Equal(t, harvest.Item{
		Key:           "https://shop.example/p/1",
		Brand:         "Royal Canin",
		Name:          "Maxi Puppy",
		FormHint:      "dry",
		LifeStageHint: "puppy",
	}, items[0])
	assert.Equal(t, harvest.Item{Key: "https://shop.example/p/2"}, items[1])
	assert.Equal(t, "Acana", items[2].Brand)
}

func TestReadURLList_Missing(t *testing.T) {
	_, err := readURLList(filepath.Join(t.TempDir(), "nope.tsv"))
	assert.Error(t, err)
}

func TestOperatorActor(t *testing.T) {
	assert.Equal(t, "admin:alice", string(operatorActor("alice")))
	assert.True(t, operatorActor("").IsAdmin())
}
