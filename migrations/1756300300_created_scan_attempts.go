package migrations

import (
	"encoding/json"

	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		jsonData := `{
			"id": "sa9qv5luw2ezkd8",
			"name": "scan_attempts",
			"type": "base",
			"system": false,
			"fields": [
				{
					"autogeneratePattern": "[a-z0-9]{15}",
					"hidden": false,
					"id": "text3208210256",
					"max": 15,
					"min": 0,
					"name": "id",
					"pattern": "^[A-Za-z0-9]+$",
					"presentable": false,
					"primaryKey": true,
					"required": true,
					"system": true,
					"type": "text"
				},
				{
					"hidden": false,
					"id": "satickid1",
					"max": 0,
					"min": 0,
					"name": "ticket_id",
					"pattern": "",
					"presentable": false,
					"primaryKey": false,
					"required": true,
					"system": false,
					"type": "text"
				},
				{
					"hidden": false,
					"id": "saevent01",
					"max": 0,
					"min": 0,
					"name": "event_id",
					"pattern": "",
					"presentable": false,
					"primaryKey": false,
					"required": false,
					"system": false,
					"type": "text"
				},
				{
					"hidden": false,
					"id": "saoutcom1",
					"maxSelect": 1,
					"name": "outcome",
					"presentable": false,
					"required": true,
					"system": false,
					"type": "select",
					"values": [
						"valid",
						"invalid",
						"already_scanned"
					]
				},
				{
					"hidden": false,
					"id": "sareason1",
					"max": 0,
					"min": 0,
					"name": "reason",
					"pattern": "",
					"presentable": false,
					"primaryKey": false,
					"required": false,
					"system": false,
					"type": "text"
				},
				{
					"hidden": false,
					"id": "sascanat1",
					"max": "",
					"min": "",
					"name": "scanned_at",
					"presentable": false,
					"required": true,
					"system": false,
					"type": "date"
				},
				{
					"hidden": false,
					"id": "sadevice1",
					"max": 0,
					"min": 0,
					"name": "device_id",
					"pattern": "",
					"presentable": false,
					"primaryKey": false,
					"required": true,
					"system": false,
					"type": "text"
				},
				{
					"hidden": false,
					"id": "samethod1",
					"maxSelect": 1,
					"name": "method",
					"presentable": false,
					"required": true,
					"system": false,
					"type": "select",
					"values": [
						"qr",
						"nfc",
						"manual"
					]
				},
				{
					"hidden": false,
					"id": "samode001",
					"maxSelect": 1,
					"name": "mode",
					"presentable": false,
					"required": false,
					"system": false,
					"type": "select",
					"values": [
						"single",
						"entry",
						"exit"
					]
				},
				{
					"hidden": false,
					"id": "saduratn1",
					"max": null,
					"min": 0,
					"name": "duration_ms",
					"onlyInt": true,
					"presentable": false,
					"required": false,
					"system": false,
					"type": "number"
				},
				{
					"hidden": false,
					"id": "saoverrd1",
					"name": "override",
					"presentable": false,
					"required": false,
					"system": false,
					"type": "bool"
				},
				{
					"hidden": false,
					"id": "saoverby1",
					"max": 0,
					"min": 0,
					"name": "override_by",
					"pattern": "",
					"presentable": false,
					"primaryKey": false,
					"required": false,
					"system": false,
					"type": "text"
				},
				{
					"hidden": false,
					"id": "sasuperb1",
					"max": 0,
					"min": 0,
					"name": "superseded_by",
					"pattern": "",
					"presentable": false,
					"primaryKey": false,
					"required": false,
					"system": false,
					"type": "text"
				},
				{
					"hidden": false,
					"id": "sametadt1",
					"maxSize": 0,
					"name": "metadata",
					"presentable": false,
					"required": false,
					"system": false,
					"type": "json"
				}
			],
			"indexes": [
				"CREATE INDEX idx_scan_attempts_ticket ON scan_attempts (ticket_id, scanned_at)",
				"CREATE INDEX idx_scan_attempts_device ON scan_attempts (device_id, scanned_at)"
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
		collection, err := app.FindCollectionByNameOrId("sa9qv5luw2ezkd8")
		if err != nil {
			return err
		}

		return app.Delete(collection)
	})
}
