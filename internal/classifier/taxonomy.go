package classifier

// TaxonomyVersion identifies the category table below. Bump it whenever a
// category or subcategory is added, renamed or removed.
const TaxonomyVersion = "2024-1"

// Category is one top-level entry of the taxonomy.
type Category struct {
	Name          string
	Subcategories []string
}

// Taxonomy is the closed set of categories a presentation can be filed under.
// It is shared by the classifier prompt and by upload validation.
var Taxonomy = []Category{
	{Name: "Business & Corporate", Subcategories: []string{"Business reports", "Pitch decks", "Company profiles", "Project proposals"}},
	{Name: "Education & Training", Subcategories: []string{"Lesson plans", "Course materials", "Training workshops"}},
	{Name: "Technology & Science", Subcategories: []string{"Software & IT", "Data & analytics", "Scientific research"}},
	{Name: "Finance & Economics", Subcategories: []string{"Financial reports", "Investment analysis", "Economic outlook"}},
	{Name: "Healthcare & Medicine", Subcategories: []string{"Medical research", "Patient education", "Public health"}},
	{Name: "Marketing & Sales", Subcategories: []string{"Sales presentations", "Brand strategy", "Digital marketing"}},
	{Name: "Creative & Design", Subcategories: []string{"Portfolios", "Design concepts", "Photography"}},
	{Name: "Government & Public Sector", Subcategories: []string{"Policy briefings", "Public programs", "Legal & compliance"}},
	{Name: "Events & Celebrations", Subcategories: []string{"Weddings", "Conferences", "Holidays"}},
	{Name: "Personal & Lifestyle", Subcategories: []string{"Travel", "Hobbies", "Self-improvement"}},
}

var index = func() map[string]map[string]struct{} {
	m := make(map[string]map[string]struct{}, len(Taxonomy))
	for _, c := range Taxonomy {
		subs := make(map[string]struct{}, len(c.Subcategories))
		for _, s := range c.Subcategories {
			subs[s] = struct{}{}
		}
		m[c.Name] = subs
	}
	return m
}()

// ValidCategory reports whether category is a known top-level category.
func ValidCategory(category string) bool {
	_, ok := index[category]
	return ok
}

// Valid reports whether subcategory belongs to category. An empty subcategory
// is accepted for a known category.
func Valid(category, subcategory string) bool {
	subs, ok := index[category]
	if !ok {
		return false
	}
	if subcategory == "" {
		return true
	}
	_, ok = subs[subcategory]
	return ok
}
