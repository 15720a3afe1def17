package repositories

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleanline/api/internal/domain"
)

func snapshotFixture() domain.WizardSession {
	created := time.Date(2026, time.March, 2, 9, 30, 0, 0, time.UTC)
	ready := created.Add(48 * time.Hour)
	wear := 3
	discountValue := decimal.RequireFromString("12.5")
	breakdown := domain.PriceBreakdown{
		UnitPrice:      decimal.RequireFromString("100"),
		Quantity:       decimal.NewFromInt(1),
		BasePrice:      decimal.RequireFromString("100"),
		ModifiersTotal: decimal.RequireFromString("30"),
		FinalPrice:     decimal.RequireFromString("130"),
		Modifiers: []domain.ModifierApplication{{
			ModifierID: "delicate",
			Code:       "DEL",
			Effect:     domain.EffectPercentage,
			Value:      decimal.RequireFromString("30"),
			Amount:     decimal.RequireFromString("30"),
		}},
	}
	coat := domain.OrderItemDraft{
		ID:                "item-1",
		CategoryID:        "outerwear",
		CatalogItemID:     "coat",
		Name:              "Coat",
		Quantity:          decimal.NewFromInt(1),
		UnitOfMeasure:     domain.UnitPiece,
		UnitPrice:         decimal.RequireFromString("100"),
		Characteristics:   domain.ItemCharacteristics{Material: "wool", WearLevel: &wear},
		Condition:         domain.ItemCondition{Stains: []string{}, Defects: []string{"missing button"}},
		SelectedModifiers: []domain.ModifierSelection{{ModifierID: "delicate"}},
		PriceBreakdown:    &breakdown,
	}
	draft := coat.Clone()
	draft.Photos = []domain.PhotoRef{{ID: "p1", ObjectPath: "intake/s/item-1/p1.jpg", ContentType: "image/jpeg", AttachedAt: created}}
	original := coat.Clone()

	return domain.WizardSession{
		ID:           "session-1",
		CurrentStage: domain.StageItemManager,
		Mode: domain.ModeEditingItem{
			ItemID:   "item-1",
			SubStep:  domain.SubStepPhotos,
			Draft:    draft,
			Original: &original,
		},
		Client:    &domain.ClientRef{ID: "c1", DisplayName: "Ada"},
		Branch:    &domain.BranchRef{ID: "b1", Code: "WAW", DisplayName: "Centre"},
		OrderInfo: domain.OrderInfo{TagNumber: "T-17", RequestedReadyAt: &ready},
		Items:     domain.NewItemList(coat),
		OrderModifiers: domain.OrderModifiers{
			UrgencyID: "express",
			Discount:  &domain.DiscountSelection{DiscountID: "loyalty", Value: &discountValue},
		},
		Payment: domain.PaymentInfo{Method: domain.PaymentMethodCash, Prepaid: decimal.RequireFromString("50")},
		Totals: domain.PricingResult{
			Complete: true,
			Totals: domain.OrderTotals{
				Currency:      "EUR",
				ItemsSubtotal: decimal.RequireFromString("130"),
				FinalTotal:    decimal.RequireFromString("130"),
				Prepaid:       decimal.RequireFromString("50"),
				BalanceDue:    decimal.RequireFromString("80"),
			},
		},
		CompletedStages:  domain.StageSet{domain.StageClientSelection, domain.StageBranchAndOrderInfo},
		Validation:       domain.StepValidationResult{Valid: true, Warnings: []string{"no photos"}},
		EstimatedReadyAt: &ready,
		CatalogVersion:   "v7",
		CreatedAt:        created,
		UpdatedAt:        created.Add(time.Minute),
	}
}

func TestSessionSnapshotRoundTrip(t *testing.T) {
	session := snapshotFixture()

	data, err := EncodeSessionSnapshot(session)
	require.NoError(t, err)

	restored, err := DecodeSessionSnapshot(data)
	require.NoError(t, err)

	assert.Equal(t, session.ID, restored.ID)
	assert.Equal(t, session.CurrentStage, restored.CurrentStage)
	assert.Equal(t, session.Client, restored.Client)
	assert.Equal(t, session.Branch, restored.Branch)
	assert.Equal(t, session.CompletedStages, restored.CompletedStages)
	assert.Equal(t, session.Validation, restored.Validation)
	assert.Equal(t, session.Items.IDs(), restored.Items.IDs())
	assert.True(t, session.CreatedAt.Equal(restored.CreatedAt))
	assert.True(t, session.EstimatedReadyAt.Equal(*restored.EstimatedReadyAt))
	assert.True(t, restored.Totals.Totals.BalanceDue.Equal(decimal.NewFromInt(80)))
	require.NotNil(t, restored.OrderModifiers.Discount)
	assert.True(t, restored.OrderModifiers.Discount.Value.Equal(decimal.RequireFromString("12.5")))

	editing, ok := restored.Editing()
	require.True(t, ok)
	assert.Equal(t, domain.SubStepPhotos, editing.SubStep)
	assert.False(t, editing.IsNew)
	require.NotNil(t, editing.Original)
	assert.Nil(t, editing.Original.Photos)
	require.Len(t, editing.Draft.Photos, 1)
	assert.Equal(t, "intake/s/item-1/p1.jpg", editing.Draft.Photos[0].ObjectPath)

	item, ok := restored.Items.Get("item-1")
	require.True(t, ok)
	assert.NotNil(t, item.Condition.Stains)
	assert.Empty(t, item.Condition.Stains)
	assert.Equal(t, 3, *item.Characteristics.WearLevel)
	require.NotNil(t, item.PriceBreakdown)
	assert.True(t, item.PriceBreakdown.FinalPrice.Equal(decimal.NewFromInt(130)))
	require.Len(t, item.PriceBreakdown.Modifiers, 1)
	assert.Equal(t, "DEL", item.PriceBreakdown.Modifiers[0].Code)
}

func TestSessionSnapshotNormalMode(t *testing.T) {
	session := snapshotFixture()
	session.Mode = domain.ModeNormal{}
	session.Items = domain.ItemList{}

	data, err := EncodeSessionSnapshot(session)
	require.NoError(t, err)
	restored, err := DecodeSessionSnapshot(data)
	require.NoError(t, err)

	assert.Equal(t, domain.ModeNormal{}, restored.Mode)
	assert.Equal(t, 0, restored.Items.Len())
}

func TestSessionSnapshotRejectsUnknownLayout(t *testing.T) {
	data, err := EncodeSessionSnapshot(snapshotFixture())
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))

	raw["version"] = 99
	future, err := json.Marshal(raw)
	require.NoError(t, err)
	_, err = DecodeSessionSnapshot(future)
	assert.ErrorIs(t, err, ErrSnapshotVersion)

	raw["version"] = SessionSnapshotVersion
	raw["mode"] = map[string]any{"kind": "dancing"}
	broken, err := json.Marshal(raw)
	require.NoError(t, err)
	_, err = DecodeSessionSnapshot(broken)
	assert.Error(t, err)

	_, err = DecodeSessionSnapshot([]byte("{"))
	assert.Error(t, err)
}
