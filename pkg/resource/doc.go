// See resource.go for Context, the owning ResourceContext of one resource
// process.
package resource
