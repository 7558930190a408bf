package registry

// ABI fragments used by the read-only position adapters. Only the view
// methods each adapter calls are declared.
const (
	ERC20ViewABI = `[
		{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
	]`

	V3PositionManagerABI = `[
		{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"tokenOfOwnerByIndex","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"index","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"positions","type":"function","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"nonce","type":"uint96"},{"name":"operator","type":"address"},{"name":"token0","type":"address"},{"name":"token1","type":"address"},{"name":"fee","type":"uint24"},{"name":"tickLower","type":"int24"},{"name":"tickUpper","type":"int24"},{"name":"liquidity","type":"uint128"},{"name":"feeGrowthInside0LastX128","type":"uint256"},{"name":"feeGrowthInside1LastX128","type":"uint256"},{"name":"tokensOwed0","type":"uint128"},{"name":"tokensOwed1","type":"uint128"}]}
	]`

	V3FactoryABI = `[
		{"name":"getPool","type":"function","stateMutability":"view","inputs":[{"name":"tokenA","type":"address"},{"name":"tokenB","type":"address"},{"name":"fee","type":"uint24"}],"outputs":[{"name":"","type":"address"}]}
	]`

	V3PoolABI = `[
		{"name":"slot0","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"sqrtPriceX96","type":"uint160"},{"name":"tick","type":"int24"},{"name":"observationIndex","type":"uint16"},{"name":"observationCardinality","type":"uint16"},{"name":"observationCardinalityNext","type":"uint16"},{"name":"feeProtocol","type":"uint8"},{"name":"unlocked","type":"bool"}]}
	]`

	StabilityPoolABI = `[
		{"name":"getCompoundedDeposit","type":"function","stateMutability":"view","inputs":[{"name":"depositor","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"getDepositorCollateralGain","type":"function","stateMutability":"view","inputs":[{"name":"depositor","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
	]`

	ERC4626ViewABI = `[
		{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"convertToAssets","type":"function","stateMutability":"view","inputs":[{"name":"shares","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]}
	]`

	SFLRABI = `[
		{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"getPooledFlrByShares","type":"function","stateMutability":"view","inputs":[{"name":"shareAmount","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]}
	]`

	FtsoV2ABI = `[
		{"name":"getFeedById","type":"function","stateMutability":"payable","inputs":[{"name":"feedId","type":"bytes21"}],"outputs":[{"name":"value","type":"uint256"},{"name":"decimals","type":"int8"},{"name":"timestamp","type":"uint64"}]}
	]`
)
