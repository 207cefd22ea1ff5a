package region

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAdvisoryStoreRecordAndHeld(t *testing.T) {
	a := NewAdvisoryStore()
	now := time.Now()

	held, _, _ := a.Held("L3", now)
	assert.False(t, held)

	a.Record("L3", "c1", "us-east", now.Add(time.Minute))
	held, clientID, regionID := a.Held("L3", now)
	assert.True(t, held)
	assert.Equal(t, "c1", clientID)
	assert.Equal(t, "us-east", regionID)
}

func TestAdvisoryStoreEntryExpires(t *testing.T) {
	a := NewAdvisoryStore()
	now := time.Now()
	a.Record("L3", "c1", "us-east", now.Add(time.Millisecond))

	held, _, _ := a.Held("L3", now.Add(time.Second))
	assert.False(t, held)
}

func TestAdvisoryStoreClear(t *testing.T) {
	a := NewAdvisoryStore()
	now := time.Now()
	a.Record("L3", "c1", "us-east", now.Add(time.Minute))
	a.Clear("L3")

	held, _, _ := a.Held("L3", now)
	assert.False(t, held)
}
