package runtime

// Queue names for the background work categories.
const (
	QueueImportByURL     = "import-by-url"
	QueueImportByImage   = "import-by-image"
	QueueImportByPaste   = "import-by-paste"
	QueueNutrition       = "nutrition-estimate"
	QueueCalendarSync    = "external-calendar-sync"
	QueueMaintenance     = "scheduled-maintenance"
	maintenanceEntryName = "scheduled-maintenance"
)

// QueueSpec pins per-queue worker concurrency.
type QueueSpec struct {
	Name        string
	Concurrency int64
}

// Catalog is the fixed set of queues the runtime opens. Concurrency numbers
// reflect the workload: URL imports are network-bound and parallel, image and
// paste imports are CPU-heavier, maintenance must never overlap itself.
var Catalog = []QueueSpec{
	{Name: QueueImportByURL, Concurrency: 5},
	{Name: QueueImportByImage, Concurrency: 2},
	{Name: QueueImportByPaste, Concurrency: 2},
	{Name: QueueNutrition, Concurrency: 2},
	{Name: QueueCalendarSync, Concurrency: 3},
	{Name: QueueMaintenance, Concurrency: 1},
}

func catalogSpec(name string) (QueueSpec, bool) {
	for _, s := range Catalog {
		if s.Name == name {
			return s, true
		}
	}
	return QueueSpec{}, false
}
