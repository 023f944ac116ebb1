package rendezvous

// Generated room names read as "<mood>-<place>-<thing>", e.g.
// "quiet-harbor-lantern". Each list stays free of hyphens.
var (
	roomMoods = []string{
		"quiet", "sunny", "misty", "golden", "velvet", "amber", "silver", "crimson", "gentle", "brisk",
		"hidden", "lucky", "mellow", "rustic", "snowy", "dusky", "breezy", "cozy", "bright", "drowsy",
		"humble", "lively", "hollow", "wild", "tidy", "frosty", "cobalt", "scarlet", "woolly", "spry",
	}

	roomPlaces = []string{
		"harbor", "meadow", "attic", "orchard", "canyon", "lagoon", "terrace", "cellar", "garden", "station",
		"lighthouse", "valley", "plaza", "studio", "alcove", "island", "bazaar", "porch", "glade", "quarry",
		"balcony", "chapel", "market", "summit", "hangar", "pier", "library", "cabin", "tundra", "delta",
	}

	roomThings = []string{
		"lantern", "compass", "kettle", "violin", "anchor", "teapot", "telescope", "marble", "feather", "candle",
		"bicycle", "pebble", "ribbon", "trumpet", "walnut", "kite", "acorn", "locket", "quill", "banjo",
		"mitten", "thimble", "umbrella", "cactus", "pretzel", "sailboat", "zeppelin", "radio", "button", "tambourine",
	}
)

// roomWords lists the word groups in name order.
var roomWords = [][]string{roomMoods, roomPlaces, roomThings}
