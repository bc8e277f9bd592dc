/*
Package config parses the consensus module's recognised configuration
options and the "id,clientFacing,memberFacing,log,transfer,
archive" cluster member string format, the same way the rest of the
ecosystem layers YAML defaults with CLI flag overrides.
*/
package config
