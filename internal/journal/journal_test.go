package journal

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backspread-webhook/internal/models"
)

func samplePlan() *models.BackspreadPlan {
	return &models.BackspreadPlan{
		ID:         "plan-1",
		Underlying: "NIFTY",
		Side:       models.SideCall,
		BuyRatio:   12,
		SellRatio:  6,
		LotSize:    50,
		ATMLeg: models.RatioLeg{
			Role:      models.RoleATM,
			Side:      models.Buy,
			Symbol:    "NIFTY 15 MAY 22000 CALL",
			Strike:    22000,
			Quantity:  600,
			UnitPrice: 150,
		},
		ITMLeg: models.RatioLeg{
			Role:      models.RoleITM,
			Side:      models.Sell,
			Symbol:    "NIFTY 15 MAY 21800 CALL",
			Strike:    21800,
			Quantity:  300,
			UnitPrice: 290,
		},
		NetPosition: -60,
		MaxRisk:     -3000,
		Breakeven:   21995,
		ExecutedAt:  time.Date(2025, 5, 12, 9, 30, 0, 0, time.UTC),
	}
}

func TestJournalRecordAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.json")

	j, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, 0, j.Len())

	entry, err := j.RecordPlan("NIFTY-ENTRY-CALL-12", samplePlan())
	require.NoError(t, err)
	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, KindEntry, entry.Kind)
	assert.Equal(t, "NIFTY", entry.Underlying)

	_, err = j.RecordClose("NIFTY-EXIT-HALF", &models.ClosedSummary{
		Underlying:      "NIFTY",
		Fraction:        models.CloseHalf,
		PositionsClosed: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, j.Len())

	// Reopen from disk and verify both entries survived.
	reloaded, err := Open(path)
	require.NoError(t, err)
	require.Equal(t, 2, reloaded.Len())

	recent := reloaded.Recent(10)
	require.Len(t, recent, 2)
	assert.Equal(t, KindClose, recent[0].Kind, "newest first")
	assert.Equal(t, KindEntry, recent[1].Kind)
	require.NotNil(t, recent[1].Plan)
	assert.Equal(t, 600, recent[1].Plan.ATMLeg.Quantity)
}

func TestRecentLimits(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "journal.json"))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := j.RecordClose("NIFTY-EXIT-FULL", &models.ClosedSummary{Underlying: "NIFTY", Fraction: models.CloseFull})
		require.NoError(t, err)
	}

	assert.Len(t, j.Recent(3), 3)
	assert.Len(t, j.Recent(0), 5)
	assert.Len(t, j.Recent(100), 5)
}

func TestRecordNil(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "journal.json"))
	require.NoError(t, err)

	_, err = j.RecordPlan("NIFTY-ENTRY-CALL-12", nil)
	assert.Error(t, err)
	_, err = j.RecordClose("NIFTY-EXIT-FULL", nil)
	assert.Error(t, err)
	assert.Equal(t, 0, j.Len())
}

func TestOpenRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := Open(path)
	assert.Error(t, err)
}
