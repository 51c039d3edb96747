// Package wiki defines the entity types shared across the snapshot
// subsystem, the error taxonomy for remote calls, and the two capabilities
// the rest of the code is written against: Client, the facet-level remote
// access used by the crawler, and Browser, the read contract implemented
// both by the live client and by the snapshot reader.
package wiki
