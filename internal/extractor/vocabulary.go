package extractor

// DefaultVocabulary is the fixed set of color names the announcement line uses.
// Compound names are matched before their single-word tails.
var DefaultVocabulary = []string{
	"amber", "aqua", "beige", "black", "blue", "bronze", "brown", "burgundy",
	"charcoal", "copper", "coral", "cream", "crimson", "cyan", "eggplant",
	"emerald", "fuchsia", "gold", "gray", "green", "grey", "indigo", "ivory",
	"jade", "khaki", "lavender", "lemon", "lilac", "lime", "magenta", "maroon",
	"mauve", "mint", "mustard", "navy", "olive", "orange", "peach", "pearl",
	"periwinkle", "pink", "platinum", "plum", "purple", "red", "rose", "ruby",
	"rust", "salmon", "sapphire", "scarlet", "silver", "tan", "teal",
	"turquoise", "violet", "white", "yellow",
	"baby blue", "burnt orange", "dark green", "forest green", "hot pink",
	"kelly green", "light blue", "light green", "lime green", "navy blue",
	"royal blue", "sky blue",
}
