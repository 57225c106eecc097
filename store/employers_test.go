package store_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internaltesting "github.com/talocan/hharvest/internal/testing"
	"github.com/talocan/hharvest/store"
)

func TestSaveEmployerUpsert(t *testing.T) {
	s := internaltesting.CreateTestStore(t)

	id, err := s.SaveEmployer(&store.Employer{HHID: "777", Name: "Acme Systems"})
	require.NoError(t, err)
	assert.Positive(t, id)

	// Same hh_id updates in place and keeps the row id
	again, err := s.SaveEmployer(&store.Employer{HHID: "777", Name: "Acme Systems LLC", URL: "https://example.local/acme"})
	require.NoError(t, err)
	assert.Equal(t, id, again)

	count, err := s.CountEmployers()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSaveEmployerRequiresHHID(t *testing.T) {
	s := internaltesting.CreateTestStore(t)

	_, err := s.SaveEmployer(&store.Employer{Name: "Nameless"})
	require.Error(t, err)
}

func TestGetMissingEmployerIDs(t *testing.T) {
	s := internaltesting.CreateTestStore(t)

	a := sampleVacancy("1")
	a.EmployerID = "100"
	b := sampleVacancy("2")
	b.EmployerID = "200"
	c := sampleVacancy("3")
	c.EmployerID = "" // no employer reference
	for _, v := range []*store.Vacancy{a, b, c} {
		_, err := s.SaveVacancy(v)
		require.NoError(t, err)
	}

	missing, err := s.GetMissingEmployerIDs(50)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"100", "200"}, missing)

	_, err = s.SaveEmployer(&store.Employer{HHID: "100", Name: "Loaded"})
	require.NoError(t, err)

	missing, err = s.GetMissingEmployerIDs(50)
	require.NoError(t, err)
	assert.Equal(t, []string{"200"}, missing)
}
