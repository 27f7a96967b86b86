// Package config holds meshctl's client configuration.
//
// The file lives at ~/.constellation/meshctl.yaml and stores named
// connection profiles:
//
//	current_profile: prod
//	output: table
//	profiles:
//	  prod:
//	    server: http://10.0.0.5:7080
//	    token: s3cret
//	  local:
//	    server: unix:///run/constellation/admin.sock
//
// Flags and MESHCTL_* environment variables override the active profile;
// see Merge.
package config
