package domain

// ViewMode selects how the receiving side renders the session.
type ViewMode string

const (
	ViewModeVideo      ViewMode = "video"
	ViewModePointCloud ViewMode = "pointcloud"
	ViewModeHybrid     ViewMode = "hybrid"
)

// ParseViewMode validates a mode received from the counterparty. Unknown
// modes are rejected so a garbled control message never alters local state.
func ParseViewMode(s string) (ViewMode, error) {
	switch m := ViewMode(s); m {
	case ViewModeVideo, ViewModePointCloud, ViewModeHybrid:
		return m, nil
	default:
		return "", ErrUnknownViewMode
	}
}
