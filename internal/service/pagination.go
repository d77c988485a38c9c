package service

const (
	defaultPage    = 1
	defaultPerPage = 10
)

// normalizePage applies the 1-indexed pagination defaults.
func normalizePage(page, perPage int) (int, int) {
	if page < 1 {
		page = defaultPage
	}
	if perPage < 1 {
		perPage = defaultPerPage
	}
	return page, perPage
}
