// Package api provides the gatehouse HTTP server.
//
// # Routes
//
// Bearer routes take an external credential in the path. They are rate
// limited per client and answer every credential failure with the same 404:
//
//	GET  /v1/files/{token}          signed file link
//	GET  /v1/portal/{token}/alive   204 while the portal token is usable
//	POST /v1/portal/{token}/pin     exchange the PIN for a PIN session
//	GET  /v1/portal/{token}         access context (PIN and account gates)
//	POST /v1/portal/{token}/check   capability check
//	POST /v1/portal/{token}/claim   bind the signed-in portal account
//
// Internal routes take the actor id from the trusted actor header and are
// guarded by RBAC permissions on the project in the path:
//
//	POST   /v1/authorize
//	POST   /v1/projects/{project_id}/portal-tokens                              portal.manage
//	GET    /v1/projects/{project_id}/portal-tokens/{token_id}                   portal.manage
//	DELETE /v1/projects/{project_id}/portal-tokens/{token_id}                   portal.manage
//	PUT    /v1/projects/{project_id}/portal-tokens/{token_id}/grants/{account}  portal.manage
//	POST   /v1/projects/{project_id}/file-links                                 project.documents.share
//	GET    /v1/audit                                                            audit.read
//
// Operational routes: GET /healthz and GET /metrics.
//
// # Usage
//
//	server, err := api.NewServer(api.Options{
//		Authorizer: rbacEngine,
//		Portal:     portalEngine,
//		FileLinks:  codec,
//		Documents:  fetcher,
//	})
//	http.ListenAndServe(":8080", server)
package api
