package analyzer

var defaultScores = map[string]int{
	// strongly positive
	"amazing": 2, "awesome": 2, "brilliant": 2, "excellent": 2, "fantastic": 2,
	"incredible": 2, "love": 2, "loved": 2, "masterpiece": 2, "outstanding": 2,
	"perfect": 2, "superb": 2, "wonderful": 2, "best": 2, "beautiful": 2,
	"gripping": 2, "stunning": 2, "unforgettable": 2,

	// positive
	"enjoy": 1, "enjoyed": 1, "fun": 1, "good": 1, "great": 1, "happy": 1,
	"like": 1, "liked": 1, "nice": 1, "pleasant": 1, "recommend": 1,
	"recommended": 1, "solid": 1, "well": 1, "worth": 1, "interesting": 1,
	"engaging": 1, "charming": 1, "clever": 1, "helpful": 1, "satisfying": 1,

	// negative
	"bad": -1, "boring": -1, "disappointing": -1, "dull": -1, "meh": -1,
	"mediocre": -1, "poor": -1, "slow": -1, "weak": -1, "confusing": -1,
	"predictable": -1, "tedious": -1, "overrated": -1, "flat": -1, "dislike": -1,
	"disappointed": -1, "annoying": -1,

	// strongly negative
	"awful": -2, "terrible": -2, "horrible": -2, "worst": -2, "hate": -2,
	"hated": -2, "garbage": -2, "unreadable": -2, "waste": -2, "trash": -2,
	"dreadful": -2, "pathetic": -2, "unbearable": -2,
}
