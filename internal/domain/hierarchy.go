package domain

// Level is one tier of the campaign → adgroup → ad tree.
type Level int

const (
	LevelCampaign Level = iota + 1
	LevelAdgroup
	LevelAd
)

// Levels lists the tiers root first. Sync order follows this slice.
var Levels = []Level{LevelCampaign, LevelAdgroup, LevelAd}

func (l Level) String() string {
	switch l {
	case LevelCampaign:
		return "campaign"
	case LevelAdgroup:
		return "adgroup"
	case LevelAd:
		return "ad"
	default:
		return "unknown"
	}
}

// HierarchyRecord is one flat row from a source report. The three-level
// tree is implicit in each record.
type HierarchyRecord struct {
	AccountID    string
	CampaignID   string
	CampaignName string
	AdgroupID    string
	AdgroupName  string
	AdID         string
	AdName       string
}

// MasterRow is an existing master-data row at any level.
type MasterRow struct {
	ID         int64
	ExternalID string
	Name       string
}

// NewMasterRow is a master-data row to create. Exactly one parent field is
// meaningful: ParentRef (account id) for campaigns, ParentID otherwise.
type NewMasterRow struct {
	ExternalID string
	ParentID   int64
	ParentRef  string
	Name       string
}
