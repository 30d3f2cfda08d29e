/*
Package crypto provides the basis for secure communication between the locations of a pgas
deployment. Other than making a proper mutual TLS configuration for the gRPC fabric available,
it also generates the needed internal PKI: one root certificate and a signed key pair per location.
*/
package crypto
