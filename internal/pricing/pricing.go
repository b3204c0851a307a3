package pricing

// Category groups service types and decides which address fields a request
// must carry: rides and deliveries need pickup and destination, assistance,
// emergency and frolic need pickup only, tours need neither.
type Category string

const (
	CategoryRide       Category = "ride"
	CategoryDelivery   Category = "delivery"
	CategoryAssistance Category = "assistance"
	CategoryEmergency  Category = "emergency"
	CategoryFrolic     Category = "frolic"
	CategoryTour       Category = "tour"
	CategoryUnknown    Category = "unknown"
)

// DefaultCredits is charged for service types missing from the table.
const DefaultCredits = 20

var categories = map[string]Category{
	"car":        CategoryRide,
	"tuktuk":     CategoryRide,
	"taxi":       CategoryRide,
	"minibus":    CategoryRide,
	"motorcycle": CategoryRide,
	"bus":        CategoryRide,

	"delivery-car":        CategoryDelivery,
	"delivery-motorcycle": CategoryDelivery,
	"delivery-tuktuk":     CategoryDelivery,
	"delivery-panelvan":   CategoryDelivery,
	"delivery-bakkie":     CategoryDelivery,
	"delivery-truck":      CategoryDelivery,

	"moving-city":           CategoryAssistance,
	"moving-national":       CategoryAssistance,
	"towme-car":             CategoryAssistance,
	"towme-bakkie":          CategoryAssistance,
	"towme-truck":           CategoryAssistance,
	"rubble-removal-bakkie": CategoryAssistance,
	"rubble-removal-truck":  CategoryAssistance,

	"towing-car":    CategoryEmergency,
	"towing-lowbed": CategoryEmergency,
	"towing-truck":  CategoryEmergency,
	"flat-battery":  CategoryEmergency,
	"flat-tyre":     CategoryEmergency,
	"dead-engine":   CategoryEmergency,

	"frolic-classic-car": CategoryFrolic,
	"frolic-modern-car":  CategoryFrolic,
	"frolic-limo":        CategoryFrolic,
	"frolic-party-bus":   CategoryFrolic,

	"bus-tour":        CategoryTour,
	"shuttle-tour":    CategoryTour,
	"motorcycle-tour": CategoryTour,
	"international":   CategoryTour,
}

// credits per unlock, keyed by service type. Tours and national-scope
// services cost the most.
var credits = map[string]int{
	"car":        15,
	"minibus":    15,
	"tuktuk":     2,
	"taxi":       2,
	"motorcycle": 2,
	"bus":        50,

	"delivery-car":        5,
	"delivery-motorcycle": 5,
	"delivery-tuktuk":     5,
	"delivery-panelvan":   20,
	"delivery-bakkie":     20,
	"delivery-truck":      50,

	"moving-city":           50,
	"moving-national":       100,
	"towme-car":             35,
	"towme-bakkie":          35,
	"towme-truck":           35,
	"rubble-removal-bakkie": 50,
	"rubble-removal-truck":  50,

	"towing-car":    50,
	"towing-lowbed": 50,
	"towing-truck":  50,
	"flat-battery":  50,
	"flat-tyre":     50,
	"dead-engine":   50,

	"frolic-classic-car": 50,
	"frolic-modern-car":  50,
	"frolic-limo":        50,
	"frolic-party-bus":   50,

	"bus-tour":        100,
	"shuttle-tour":    100,
	"motorcycle-tour": 100,
	"international":   100,
}

// CategoryOf maps a service type to its coarse category.
func CategoryOf(serviceType string) Category {
	if c, ok := categories[serviceType]; ok {
		return c
	}
	return CategoryUnknown
}

// Known reports whether the service type is part of the taxonomy.
func Known(serviceType string) bool {
	_, ok := categories[serviceType]
	return ok
}

// CreditsForService returns the unlock cost for a service type.
func CreditsForService(serviceType string) int {
	if c, ok := credits[serviceType]; ok {
		return c
	}
	return DefaultCredits
}

// RequiresPickup reports whether the category needs pickup coordinates.
// Only tours are exempt.
func RequiresPickup(serviceType string) bool {
	return CategoryOf(serviceType) != CategoryTour
}

// RequiresDestination reports whether the category needs a destination.
func RequiresDestination(serviceType string) bool {
	switch CategoryOf(serviceType) {
	case CategoryRide, CategoryDelivery:
		return true
	}
	return false
}
