// Package handler implements the local JSON API served by the tunet daemon.
//
// # Routes
//
//	GET  /api/status                 session state and device list
//	GET  /api/devices                device list only
//	POST /api/devices/{query}/drop   force a device offline (query is an IP or MAC)
//	PUT  /api/devices/{mac}/name     set or clear a display name
//	POST /api/logon                  log on (?check_link=true probes first)
//	POST /api/refresh                refresh balance, traffic and devices
//	GET  /api/trigger                last background run
//	POST /api/trigger                queue a manual background run
//
// # Response Format
//
// Success responses return JSON data. Error responses return JSON with an
// {error, details, kind} structure; kind is the session error category when
// the failure came from the portal.
package handler
