package api

import (
	"net/http"
)

const (
	epcisVersion  = "2.0.0"
	cbvVersion    = "2.0.0"
	vendorVersion = "1.0.0"
)

func setVersionHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("GS1-EPCIS-Version", epcisVersion)
	h.Set("GS1-CBV-Version", cbvVersion)
	h.Set("GS1-EPCIS-Min", epcisVersion)
	h.Set("GS1-EPCIS-Max", epcisVersion)
	h.Set("GS1-Vendor-Version", vendorVersion)
}

// Discovery answers OPTIONS / with the supported protocol versions.
func Discovery(w http.ResponseWriter, r *http.Request) {
	setVersionHeaders(w)
	w.WriteHeader(http.StatusNoContent)
}

type resourceList struct {
	Resources []string `json:"resources"`
}

// Resources lists the top-level resources.
func Resources(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, resourceList{Resources: []string{"/capture", "/queries"}})
}
