// Package mqttclient connects the ingestion connector to an MQTT broker
// using the Eclipse Paho client.
//
// The session is persistent (CleanSession false) and subscribes at QoS 1,
// so the broker holds messages while the pipeline is disconnected. Paho's
// automatic acknowledgement and reconnect are both disabled: a message is
// acknowledged only once the connector has handed it to the pipeline, and
// reconnect timing belongs to the connector's backoff loop.
//
//	client, err := mqttclient.New(cfg.MQTT, mqttclient.WithTLS(tlsCfg))
//	conn, err := broker.New(brokerCfg, client, decoder, coordinator.Handle)
//	err = conn.Run(ctx)
package mqttclient
