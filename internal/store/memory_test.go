package store

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_Directory(t *testing.T) {
	exerciseDirectory(t, NewMemory())
}

func TestMemory_SeedRejectsInvalid(t *testing.T) {
	s := NewMemory()
	d := germanSeed()
	d.StateProvinces[0].CountryID = 1

	_, err := s.Seed(context.Background(), d)
	require.Error(t, err)

	_, ok, _ := s.FindCountryByISOCode(context.Background(), "DE")
	assert.False(t, ok, "nothing is written when validation fails")
}

func TestMemory_ConcurrentCreateCounty(t *testing.T) {
	s := NewMemory()
	_, err := s.Seed(context.Background(), germanSeed())
	require.NoError(t, err)

	ids := make([]int64, 16)
	var wg sync.WaitGroup
	for i := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := s.CreateCounty(context.Background(), 11, "Hamburg")
			assert.NoError(t, err)
			ids[i] = id
		}()
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Len(t, s.counties, 2)
}
