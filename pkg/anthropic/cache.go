package anthropic

// CachedSystem builds a single system block with an ephemeral cache
// breakpoint, for long instructions reused across runs.
func CachedSystem(text string) []SystemBlock {
	return []SystemBlock{
		{
			Text:         text,
			CacheControl: &CacheControl{TTL: "5m"},
		},
	}
}

// System builds a single uncached system block.
func System(text string) []SystemBlock {
	return []SystemBlock{{Text: text}}
}
