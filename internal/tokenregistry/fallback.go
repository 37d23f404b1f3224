package tokenregistry

// ArbitrumChainID is the single chain this engine executes on (spec §4.2
// step 1, §9 single-chain assumption).
const ArbitrumChainID int64 = 42161

// staticFallback is the minimal documented-address table used when the
// Quote Client's getTokens call fails after its own retries (spec §4.7).
// Kept deliberately small: the full fallback table is an external concern
// (spec §1 Non-goals list "the static token fallback table" among the
// out-of-scope collaborators) — this is just enough to let the registry
// resolve the handful of tokens the swap pipeline and vault integration
// need at minimum.
var staticFallback = []Descriptor{
	{Symbol: "USDC", ChainID: ArbitrumChainID, Address: "0xaf88d065e77c8cC2239327C5EDb3A432268e5831", Decimals: 6, Name: "USD Coin"},
	{Symbol: "USDC.E", ChainID: ArbitrumChainID, Address: "0xFF970A61A04b1cA14834A43f5dE4533eBDDB5CC8", Decimals: 6, Name: "Bridged USDC"},
	{Symbol: "WETH", ChainID: ArbitrumChainID, Address: "0x82aF49447D8a07e3bd95BD0d56f35241523fBab1", Decimals: 18, Name: "Wrapped Ether"},
	{Symbol: "ETH", ChainID: ArbitrumChainID, Address: "0x82aF49447D8a07e3bd95BD0d56f35241523fBab1", Decimals: 18, Name: "Ether"},
	{Symbol: "ARB", ChainID: ArbitrumChainID, Address: "0x912CE59144191C1204E64559FE8253a0e49E6548", Decimals: 18, Name: "Arbitrum"},
}

// StaticFallback returns a copy of the documented fallback table.
func StaticFallback() []Descriptor {
	out := make([]Descriptor, len(staticFallback))
	copy(out, staticFallback)
	return out
}
