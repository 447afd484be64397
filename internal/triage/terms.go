package triage

import "github.com/arbor-commodities/sugarwire/internal/model"

// Term sets for the target commodity (sugar). The lists are declarative
// configuration compiled into matcher tables once at startup; they are not
// mutated at runtime.

// mainTerms identify the target commodity directly. A single match is
// sufficient to route an article past the exclusion check.
var mainTerms = []string{
	"sugar", "sugarcane", "sugar cane", "sugar beet", "molasses",
	"sweetener", "sucrose", "glucose", "fructose", "saccharose",
	"raffinose", "whites", "NY11", "LSU", "LON No. 5",
	"raw sugar", "refined sugar", "brown sugar", "table sugar",
}

// exclusionTerms identify unrelated commodities and generic macro topics.
// Only consulted when no main term matched.
var exclusionTerms = []string{
	"copper", "cocoa", "cotton", "oil", "gas", "crude", "energy",
	"aluminum", "nickel", "zinc", "lead", "tin", "wheat", "corn", "soy",
	"soybean", "coffee", "tea", "rubber", "palm", "gold", "silver",
	"platinum", "palladium", "iron", "steel", "coal", "uranium",
	"natural gas", "petroleum", "oat", "barley", "livestock", "dairy",
	"meat", "poultry", "macro", "macro-economic", "inflation",
	"interest rate", "currency",
}

// contextTerms are advisory thematic groups. Matches are recorded for
// enrichment and never cause rejection.
var contextTerms = map[model.ContextCategory][]string{
	model.CategoryMarket: {
		"futures", "contract", "price", "market", "export", "exports",
		"exporter", "import", "imports", "importer", "shipment", "port",
		"tariff", "subsidy", "funds", "speculators", "commodity",
		"agriculture", "food", "crop", "yield", "farm", "plantation",
		"season", "production", "output", "mill", "refinery",
		"processing", "supply", "demand",
	},
	model.CategorySupplyChain: {
		"harvest", "crushing", "yield", "production", "output", "mill",
		"plantation", "farmer", "agricultural", "transport", "logistics",
		"storage", "inventory", "shipment", "supply", "demand",
	},
	model.CategoryEvent: {
		"ethanol", "weather", "drought", "frost", "rain", "monsoon",
		"climate", "El Niño", "La Niña", "storm", "flood", "heatwave",
		"hail", "cyclone", "typhoon", "disaster", "fire", "earthquake",
		"tornado", "crop loss", "damage", "alert", "warning",
	},
	model.CategoryRegion: {
		"Brazil", "Brasil", "Brazilian", "Center-South", "Centro-Sul",
		"India", "Indian", "Thailand", "Thai", "EU", "European Union",
		"UNICA", "International Sugar Organization", "ISO", "USDA",
		"Africa", "Asia", "Australia", "China", "Indonesia", "Pakistan",
		"Mexico", "Philippines", "Vietnam", "Russia", "Ukraine", "USA",
		"United States", "America",
	},
}
