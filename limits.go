package guestpager

const (
	// DefaultPageSize matches the page size the mobile client requested.
	DefaultPageSize = 5
	// MaxPageSize caps both remote pages and local slices.
	MaxPageSize = 100

	// DefaultPrefetchDistance is how close to an edge of the loaded window an
	// accessed index must be to trigger the next load.
	DefaultPrefetchDistance = 1
)

// NormalizePageSize turns a missing or non-positive size into DefaultPageSize
// and caps the rest at MaxPageSize.
func NormalizePageSize(size int) int {
	if size <= 0 {
		return DefaultPageSize
	}

	return min(size, MaxPageSize)
}

// NormalizePrefetchDistance clamps negative distances to 0.
func NormalizePrefetchDistance(distance int) int {
	return max(distance, 0)
}
