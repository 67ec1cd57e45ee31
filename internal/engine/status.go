package engine

// Status describes the health of an Engine's components.
type Status struct {
	StorageDriver     string `json:"storage_driver"`
	StorageEnabled    bool   `json:"storage_enabled"`
	CatalogPath       string `json:"catalog_path"`
	CatalogItems      int    `json:"catalog_items"`
	IndexedItems      uint64 `json:"indexed_items"`
	CatalogBreaker    string `json:"catalog_breaker"`
	PurchasesBreaker  string `json:"purchases_breaker"`
	DefinitionsPath   string `json:"definitions_path,omitempty"`
	Experiments       int    `json:"experiments"`
	ActiveExperiments int    `json:"active_experiments"`
	Watching          bool   `json:"watching"`
	Generator         bool   `json:"generator"`
	Tracking          bool   `json:"tracking"`
	TrackingQueue     int    `json:"tracking_queue"`
}

// Healthy reports whether every required component is usable.
func (s Status) Healthy() bool {
	return s.StorageEnabled && s.CatalogItems > 0 && s.Tracking
}

// Status reports component health.
func (e *Engine) Status() Status {
	s := Status{
		StorageDriver:    e.cfg.Storage.Driver,
		StorageEnabled:   e.store.enabled(),
		CatalogPath:      e.catalog.Path(),
		CatalogItems:     e.catalog.Len(),
		CatalogBreaker:   e.guarded.State(),
		PurchasesBreaker: e.purchases.State(),
		Generator:        e.generator,
		Tracking:         e.tracker.IsEnabled(),
		TrackingQueue:    e.tracker.QueueSize(),
	}

	if e.index != nil {
		s.IndexedItems, _ = e.index.Count()
	}

	all := e.defs.All()
	s.Experiments = len(all)
	for _, d := range all {
		if d.Active {
			s.ActiveExperiments++
		}
	}
	if e.fileDefs != nil {
		s.DefinitionsPath = e.fileDefs.Path()
		s.Watching = e.fileDefs.Watching()
	}

	return s
}
