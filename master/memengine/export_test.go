package memengine

// Entries counts the objects and point series the engine is holding state for.
func (e *Engine) Entries() (objects, series int) {
	e.objects.Range(func(_, _ any) bool {
		objects++
		return true
	})

	e.points.Range(func(_, _ any) bool {
		series++
		return true
	})

	return objects, series
}
