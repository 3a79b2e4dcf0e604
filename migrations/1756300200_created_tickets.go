package migrations

import (
	"encoding/json"

	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		jsonData := `{
			"id": "tk7h2msq90adnw3",
			"name": "tickets",
			"type": "base",
			"system": false,
			"fields": [
				{
					"autogeneratePattern": "[a-z0-9]{15}",
					"hidden": false,
					"id": "text3208210256",
					"max": 15,
					"min": 15,
					"name": "id",
					"pattern": "^[a-z0-9]+$",
					"presentable": false,
					"primaryKey": true,
					"required": true,
					"system": true,
					"type": "text"
				},
				{
					"cascadeDelete": false,
					"collectionId": "gjx4c2rqe8m01ev",
					"hidden": false,
					"id": "tkevent01",
					"maxSelect": 1,
					"minSelect": 0,
					"name": "event_id",
					"presentable": false,
					"required": true,
					"system": false,
					"type": "relation"
				},
				{
					"hidden": false,
					"id": "tktier001",
					"maxSelect": 1,
					"name": "tier",
					"presentable": false,
					"required": true,
					"system": false,
					"type": "select",
					"values": [
						"ga",
						"vip"
					]
				},
				{
					"hidden": false,
					"id": "tkprice01",
					"max": 0,
					"min": 0,
					"name": "price",
					"pattern": "",
					"presentable": false,
					"primaryKey": false,
					"required": false,
					"system": false,
					"type": "text"
				},
				{
					"hidden": false,
					"id": "tktoken01",
					"max": 0,
					"min": 0,
					"name": "token",
					"pattern": "",
					"presentable": false,
					"primaryKey": false,
					"required": true,
					"system": false,
					"type": "text"
				},
				{
					"hidden": false,
					"id": "tksig0001",
					"max": 0,
					"min": 0,
					"name": "signature",
					"pattern": "",
					"presentable": false,
					"primaryKey": false,
					"required": true,
					"system": false,
					"type": "text"
				},
				{
					"hidden": false,
					"id": "tkstatus1",
					"maxSelect": 1,
					"name": "status",
					"presentable": false,
					"required": true,
					"system": false,
					"type": "select",
					"values": [
						"issued",
						"scanned",
						"cancelled",
						"refunded"
					]
				},
				{
					"hidden": false,
					"id": "tkpresen1",
					"maxSelect": 1,
					"name": "presence",
					"presentable": false,
					"required": false,
					"system": false,
					"type": "select",
					"values": [
						"outside",
						"inside"
					]
				},
				{
					"hidden": false,
					"id": "tkentry01",
					"max": null,
					"min": 0,
					"name": "entry_count",
					"onlyInt": true,
					"presentable": false,
					"required": false,
					"system": false,
					"type": "number"
				},
				{
					"hidden": false,
					"id": "tkexit001",
					"max": null,
					"min": 0,
					"name": "exit_count",
					"onlyInt": true,
					"presentable": false,
					"required": false,
					"system": false,
					"type": "number"
				},
				{
					"hidden": false,
					"id": "tkversio1",
					"max": null,
					"min": 0,
					"name": "version",
					"onlyInt": true,
					"presentable": false,
					"required": false,
					"system": false,
					"type": "number"
				},
				{
					"hidden": false,
					"id": "tkscanby1",
					"max": 0,
					"min": 0,
					"name": "scanned_by",
					"pattern": "",
					"presentable": false,
					"primaryKey": false,
					"required": false,
					"system": false,
					"type": "text"
				},
				{
					"hidden": false,
					"id": "tkscanat1",
					"max": "",
					"min": "",
					"name": "scanned_at",
					"presentable": false,
					"required": false,
					"system": false,
					"type": "date"
				},
				{
					"hidden": false,
					"id": "tkissue01",
					"max": "",
					"min": "",
					"name": "issued_at",
					"presentable": false,
					"required": false,
					"system": false,
					"type": "date"
				},
				{
					"hidden": false,
					"id": "tklastsc1",
					"max": "",
					"min": "",
					"name": "last_scan_at",
					"presentable": false,
					"required": false,
					"system": false,
					"type": "date"
				},
				{
					"hidden": false,
					"id": "tklasten1",
					"max": "",
					"min": "",
					"name": "last_entry_at",
					"presentable": false,
					"required": false,
					"system": false,
					"type": "date"
				},
				{
					"hidden": false,
					"id": "tklastex1",
					"max": "",
					"min": "",
					"name": "last_exit_at",
					"presentable": false,
					"required": false,
					"system": false,
					"type": "date"
				}
			],
			"indexes": [
				"CREATE UNIQUE INDEX idx_tickets_token ON tickets (token)"
			],
			"listRule": null,
			"viewRule": null,
			"createRule": null,
			"updateRule": null,
			"deleteRule": null
		}`

		collection := &core.Collection{}
		if err := json.Unmarshal([]byte(jsonData), &collection); err != nil {
			return err
		}

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("tk7h2msq90adnw3")
		if err != nil {
			return err
		}

		return app.Delete(collection)
	})
}
