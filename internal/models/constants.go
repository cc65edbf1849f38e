package models

// Channel status values (0 = enabled, 1 = disabled, matching the upstream
// admin convention).
const (
	ChannelStatusEnabled  int16 = 0
	ChannelStatusDisabled int16 = 1
)

// HDMarker is the suffix the upstream service uses in the names of
// high-definition channels. The SD dedup heuristic appends this marker to a
// name and looks for an exact HD sibling.
const HDMarker = "高清"

// CategoryUncategorized is assigned to channels whose upstream id has no
// entry in the template dictionary.
const CategoryUncategorized = "未分类"

// Schedule task repeat policies.
const (
	RepeatOnce    = "once"
	RepeatDaily   = "daily"
	RepeatWeekly  = "weekly"
	RepeatMonthly = "monthly"
)

// TaskTypeFetchChannels is the only task type currently registered with the
// scheduler.
const TaskTypeFetchChannels = "fetch_channels"
