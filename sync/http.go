package sync

import "time"

// HTTPRequestTimeout is the default timeout for all HTTP requests to the Rally API.
// It applies when the loaded config does not set api.timeout.
const HTTPRequestTimeout = 60 * time.Second

// rallyWebservicePath is the root of every WSAPI resource below the endpoint.
const rallyWebservicePath = "/slm/webservice"
