package anthropic

// BuildCachedSystemBlocks constructs system content blocks with a cache
// breakpoint. Every classification call sends the same instructions, so the
// prefix is served from the prompt cache after the first request.
func BuildCachedSystemBlocks(text, ttl string) []SystemBlock {
	return []SystemBlock{
		{
			Text: text,
			CacheControl: &CacheControl{
				TTL: ttl,
			},
		},
	}
}
