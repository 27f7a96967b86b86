// Command meshd runs one mesh participant.
//
// meshd hosts a single service identity. It joins (or bootstraps) the mesh,
// keeps the replicated address book, negotiates transports with peers and
// serves the admin API that meshctl talks to.
//
// Usage:
//
//	meshd --config /etc/constellation/meshd.yaml
//	meshd --identity billing.v2 --join socket://10.0.0.5:7000
//	meshd config --config meshd.yaml
//	meshd version
//
// Configuration is read from the YAML file, then CONSTELLATION_* environment
// variables (CONSTELLATION_RAFT__BIND sets raft.bind), then flags. Editing the
// file while meshd runs reloads log.level; other changes need a restart.
package main
