package sqlinline

const QInsertGeneration = `--sql 42bb845f-cf61-4385-8aa8-a5c0c2e74bac
insert into generations (
    id, user_id, model_image_path, garment_image_path, result_image_path,
    category, mode, processing_time, model_image_size, garment_image_size, result_image_size
)
values (
    $1::uuid, $2::uuid, $3::text, $4::text, $5::text,
    $6::text, $7::text, nullif($8::text, ''), nullif($9::bigint, 0), nullif($10::bigint, 0), nullif($11::bigint, 0)
)
returning created_at;
`

const QListGenerationsByUser = `--sql f6fe450c-0380-4a5c-848b-caa2d4cde041
select
    id::text,
    user_id::text,
    model_image_path,
    garment_image_path,
    result_image_path,
    category,
    mode,
    created_at,
    coalesce(processing_time, ''),
    coalesce(model_image_size, 0),
    coalesce(garment_image_size, 0),
    coalesce(result_image_size, 0)
from generations
where user_id = $1::uuid
order by created_at desc, id desc
limit $2::int
offset $3::int;
`

const QSelectGeneration = `--sql 7d7aa6d7-6448-4415-9e10-a8a130d12307
select
    id::text,
    user_id::text,
    model_image_path,
    garment_image_path,
    result_image_path,
    category,
    mode,
    created_at,
    coalesce(processing_time, ''),
    coalesce(model_image_size, 0),
    coalesce(garment_image_size, 0),
    coalesce(result_image_size, 0),
    user_id = $2::uuid as owned
from generations
where id = $1::uuid
limit 1;
`

const QDeleteGeneration = `--sql 036503c9-8eb1-49df-b2e5-ab6adf597247
delete from generations
where id = $1::uuid
  and user_id = $2::uuid;
`
