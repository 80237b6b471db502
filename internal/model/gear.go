package model

import (
	"fmt"
	"strings"
	"time"
)

// GearCategory classifies a gear item in the catalog.
type GearCategory string

const (
	CategoryBackpack        GearCategory = "BACKPACK"
	CategorySleepingBag     GearCategory = "SLEEPING_BAG"
	CategorySleepingPad     GearCategory = "SLEEPING_PAD"
	CategoryTent            GearCategory = "TENT"
	CategoryCooking         GearCategory = "COOKING"
	CategoryClimbingHarness GearCategory = "CLIMBING_HARNESS"
	CategoryClimbingShoes   GearCategory = "CLIMBING_SHOES"
	CategoryIceAxe          GearCategory = "ICE_AXE"
	CategoryCrampons        GearCategory = "CRAMPONS"
	CategoryHelmet          GearCategory = "HELMET"
	CategoryRope            GearCategory = "ROPE"
	CategoryCanoeKayak      GearCategory = "CANOE_KAYAK"
	CategoryPaddle          GearCategory = "PADDLE"
	CategoryPFD             GearCategory = "PFD"
	CategoryOther           GearCategory = "OTHER"
)

// GearCategories lists every category in catalog order.
var GearCategories = []GearCategory{
	CategoryBackpack, CategorySleepingBag, CategorySleepingPad, CategoryTent,
	CategoryCooking, CategoryClimbingHarness, CategoryClimbingShoes, CategoryIceAxe,
	CategoryCrampons, CategoryHelmet, CategoryRope, CategoryCanoeKayak,
	CategoryPaddle, CategoryPFD, CategoryOther,
}

// ParseGearCategory returns the category named by s.
func ParseGearCategory(s string) (GearCategory, error) {
	c := GearCategory(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range GearCategories {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown gear category %q", s)
}

// GearCondition grades the physical state of an item.
type GearCondition string

const (
	ConditionExcellent GearCondition = "EXCELLENT"
	ConditionGood      GearCondition = "GOOD"
	ConditionFair      GearCondition = "FAIR"
	ConditionPoor      GearCondition = "POOR"
	ConditionRetired   GearCondition = "RETIRED"
)

// ParseGearCondition returns the condition named by s.  An empty string
// yields ConditionGood.
func ParseGearCondition(s string) (GearCondition, error) {
	switch c := GearCondition(strings.ToUpper(strings.TrimSpace(s))); c {
	case "":
		return ConditionGood, nil
	case ConditionExcellent, ConditionGood, ConditionFair, ConditionPoor, ConditionRetired:
		return c, nil
	}
	return "", fmt.Errorf("unknown gear condition %q", s)
}

// GearItem describes one independently reservable piece of equipment
// owned by a club.  Items are soft deleted by clearing IsActive so that
// the requests referencing them keep their history.
//
// Fields:
//
//	ID            – primary key identifier.
//	Name          – display name, required.
//	Brand         – optional manufacturer.
//	Model         – optional model designation.
//	Category      – catalog category.
//	Description   – optional free text.
//	Condition     – physical condition grade.
//	Size          – optional size label.
//	Weight        – optional weight label.
//	ImageURL      – reference to the item's picture, if any.
//	ClubID        – owning club.
//	PurchasePrice – optional purchase price in cents.
//	Notes         – optional admin notes.
//	IsActive      – soft-delete flag.
type GearItem struct {
	ID            uint64        `json:"id"`                       // gear_items.id
	Name          string        `json:"name"`                     // gear_items.name
	Brand         *string       `json:"brand,omitempty"`          // gear_items.brand (nullable)
	Model         *string       `json:"model,omitempty"`          // gear_items.model (nullable)
	Category      GearCategory  `json:"category"`                 // gear_items.category
	Description   *string       `json:"description,omitempty"`    // gear_items.description (nullable)
	Condition     GearCondition `json:"condition"`                // gear_items.gear_condition
	Size          *string       `json:"size,omitempty"`           // gear_items.size (nullable)
	Weight        *string       `json:"weight,omitempty"`         // gear_items.weight (nullable)
	ImageURL      *string       `json:"image_url,omitempty"`      // gear_items.image_url (nullable)
	ClubID        string        `json:"club_id"`                  // gear_items.club_id
	PurchasePrice *uint32       `json:"purchase_price,omitempty"` // gear_items.purchase_price_cents (nullable)
	Notes         *string       `json:"notes,omitempty"`          // gear_items.notes (nullable)
	IsActive      bool          `json:"is_active"`                // gear_items.is_active
	CreatedAt     time.Time     `json:"created_at"`               // gear_items.created_at
	UpdatedAt     time.Time     `json:"updated_at"`               // gear_items.updated_at
}

// Availability is the derived reservability of a gear item.
type Availability struct {
	IsAvailable   bool       `json:"is_available"`
	NextAvailable *time.Time `json:"next_available"`
}

// GearWithAvailability is a catalog entry as returned by listings.
type GearWithAvailability struct {
	GearItem
	Availability
}

// CategoryCount is one row of the per-category inventory statistics.
type CategoryCount struct {
	Category GearCategory `json:"category"`
	Count    int          `json:"count"`
}
