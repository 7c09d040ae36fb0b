// Package server implements the UDP link to the radio hardware and the HTTP
// control API. The UDP side discovers the radio, sends start/stop commands
// and owns the socket the frame reader and writer use.
package server
