package ledger

import (
	"strings"

	"github.com/jmcleod/bankgate/internal/util"
)

const (
	CategoryGroceries     = "Boodschappen"
	CategoryDining        = "Horeca"
	CategoryTransport     = "Vervoer"
	CategoryHousing       = "Wonen"
	CategoryUtilities     = "Utilities"
	CategoryShopping      = "Shopping"
	CategoryEntertainment = "Entertainment"
	CategoryHealth        = "Zorg"
	CategorySalary        = "Salaris"
	CategoryOther         = "Overig"
)

type rule struct {
	category string
	keywords []string
}

// rules are evaluated in order; the first match wins. Keywords are in
// folded form and short ones carry surrounding spaces to match whole words.
var rules = []rule{
	{CategoryGroceries, []string{"albert heijn", " ah ", "jumbo", "lidl", "aldi", " plus ", "supermarkt"}},
	{CategoryDining, []string{"restaurant", "cafe", " bar ", "pizza", "burger", "starbucks"}},
	{CategoryTransport, []string{" ns ", "train", " bus ", "taxi", "uber", "parking", "shell", "benzine"}},
	{CategoryHousing, []string{"huur", " rent ", "hypotheek", "mortgage", "verhuurder"}},
	{CategoryUtilities, []string{"eneco", "energie", " gas ", " water", "ziggo", " kpn", "telecom"}},
	{CategoryShopping, []string{"bol.com", "coolblue", "mediamarkt", "zara", "h&m", "shop"}},
	{CategoryEntertainment, []string{"netflix", "spotify", "youtube", "cinema", "pathe", "concert"}},
	{CategoryHealth, []string{"apotheek", "pharmacy", "dokter", "doctor", "tandarts", "dentist"}},
	{CategorySalary, []string{"salaris", "salary", " loon", " wage"}},
}

// Categorize assigns a spending category from the description and
// counterparty name.
func Categorize(description, counterparty string) string {
	combined := " " + util.FoldText(description+" "+counterparty) + " "
	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(combined, kw) {
				return r.category
			}
		}
	}
	return CategoryOther
}
