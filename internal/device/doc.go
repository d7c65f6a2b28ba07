// Package device holds the platform-neutral Bluetooth Low Energy model shared by
// the scan controller, the connection state machine and the platform backends.
//
// It defines:
//   - Record and Catalog, the discovered-peripheral snapshot and the per-scan
//     de-duplicated list of them
//   - UUID and RoleTable, mapping configured UUIDs to UART roles
//   - the tagged Event feed that backends post onto the client event loop
//   - the Central, Link and Service interfaces every backend implements
//   - typed errors (NotFoundError, ConnectionError, ScanError) and sentinels
//
// Backends never call into the core directly. They report completions through
// an Emitter and every event carries the Tag of the scan pass or connection
// context that requested it, so superseded work can be recognised and dropped.
package device
