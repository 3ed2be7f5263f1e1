/*
Package backend implements the RESTful API for the configured entity kinds

A backend serves every kind of a field registry under a generic set of routes.
Requests and responses are JSON; every response is wrapped in an envelope

	{"code": 200, "message": "Record found successfully", "body": {...}}

where code repeats the HTTP status.

Configuration

Kinds are described with JSON:

	{
	  "kinds": [
		{
		  "kind": "partner",
		  "filter_fields": ["name", "email"],
		  "fields": [
			{"name": "name", "type": "char", "required": true},
			{"name": "email", "type": "char", "unique": true},
			{"name": "parent_id", "type": "relation_to_one", "kind": "partner"},
			{"name": "attachment_ids", "type": "relation_to_many_shared", "kind": "attachment"}
		  ]
		}
	  ]
	}

Routes

The backend creates the following routes:
	POST   /api/v1/login
	POST   /api/v1/change_password
	POST   /api/v1/{kind}/create
	PUT    /api/v1/{kind}/update
	DELETE /api/v1/{kind}/delete/{id}
	GET    /api/v1/{kind}/search/all
	GET    /api/v1/{kind}/search/one/{id}
	GET    /api/v1/{kind}/filter?query={keyword}
	POST   /api/v1/{kind}/action/{id}
	GET    /web/content/{id}
	GET    /version

All routes except login and version require an "Authorization: Bearer <token>" header
with a token obtained from the login route.

Create and update take the field values of the entity as JSON object. The optional
property "list_of_fields" restricts the fields of the returned projection. The search
routes take "domain", "limit", "offset" and "list_of_fields" either from a JSON body
or from query parameters:

	GET /api/v1/partner/search/all?domain=[["name","like","Acme"]]&limit=10&list_of_fields=id,name

Actions

Named actions must be registered before they can be invoked:

	b.HandleAction("partner", "action_confirm", func(ctx context.Context, env *request.Env, kind string, id int64) (interface{}, error) {
		return nil, env.Store.Write(ctx, kind, id, store.Values{"state": "done"})
	})

and are invoked with

	POST /api/v1/partner/action/42
	{"action_name": "action_confirm"}
*/
package backend
